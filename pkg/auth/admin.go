package auth

// AdminPredicate decides whether an identity may use the admin surface.
type AdminPredicate func(Identity) bool

// EmailAllowList builds an AdminPredicate that admits the configured emails.
// Matching ignores case and surrounding whitespace. An empty list admits nobody.
func EmailAllowList(emails []string) AdminPredicate {
	allowed := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		normalized := NormalizeEmail(email)
		if normalized == "" {
			continue
		}
		allowed[normalized] = struct{}{}
	}
	return func(identity Identity) bool {
		_, ok := allowed[NormalizeEmail(identity.Email)]
		return ok && identity.Email != ""
	}
}

// DenyAll rejects every identity.
func DenyAll(Identity) bool { return false }
