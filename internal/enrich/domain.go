package enrich

import "strings"

// genericEmailProviders are consumer mail domains that say nothing about the
// prospect's employer. Company-level stages skip prospects whose only signal
// is one of these.
var genericEmailProviders = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"aol.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"mac.com":        true,
	"proton.me":      true,
	"protonmail.com": true,
	"gmx.com":        true,
	"gmx.net":        true,
	"msn.com":        true,
	"live.com":       true,
	"mail.com":       true,
	"ymail.com":      true,
	"zoho.com":       true,
}

// DeriveCompanyDomain extracts the employer web domain from a prospect's
// email address. Returns "" for malformed addresses and generic consumer
// providers.
func DeriveCompanyDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 {
		return ""
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if domain == "" || !strings.Contains(domain, ".") {
		return ""
	}
	if genericEmailProviders[domain] {
		return ""
	}
	return domain
}
