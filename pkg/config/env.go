package config

const EnvPrefix = "MEALRUN"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv = "MEALRUN_APP_ENV"
	EnvPort   = "MEALRUN_APP_PORT"

	EnvDBDSN  = "MEALRUN_DB_DSN"
	EnvDBHost = "MEALRUN_DB_HOST"
	EnvDBUser = "MEALRUN_DB_USER"
	EnvDBName = "MEALRUN_DB_NAME"

	EnvRedisURL = "MEALRUN_REDIS_URL"

	EnvJWTSecret  = "MEALRUN_JWT_SECRET"
	EnvJWTIssuer  = "MEALRUN_JWT_ISSUER"
	EnvJWTExpMins = "MEALRUN_JWT_EXPIRATION_MINUTES"

	EnvAdminEmails = "MEALRUN_ADMIN_EMAILS"

	EnvMealPriceCents       = "MEALRUN_PRICING_MEAL_PRICE_CENTS"
	EnvFulfillerAmountCents = "MEALRUN_PRICING_FULFILLER_AMOUNT_CENTS"
	EnvPlatformFeeCents     = "MEALRUN_PRICING_PLATFORM_FEE_CENTS"
	EnvReservationWindow    = "MEALRUN_RESERVATION_WINDOW"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
