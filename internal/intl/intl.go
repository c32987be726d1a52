// Package intl renders user-facing status and error strings. Internal
// logic branches only on message keys; translated text is display-only.
package intl

import "strings"

// TranslateFunc resolves a message key for a locale. The request layer may
// inject its own catalog; Default serves the builtin one.
type TranslateFunc func(key, locale string) string

// Message keys understood by the builtin catalog.
const (
	KeyUnauthenticated  = "error.unauthenticated"
	KeyUnverified       = "error.unverified"
	KeyPermissionDenied = "error.permission_denied"
	KeyNotFound         = "error.not_found"
	KeyConflict         = "error.conflict"
	KeyTryAgain         = "error.try_again"
	KeySignInAgain      = "error.sign_in_again"
	KeyInvited          = "status.invited"
	KeyInviteSent       = "status.invite_sent"
	KeyRemoved          = "status.removed"
	KeyDomainCreated    = "status.domain_created"
	KeyRefreshed        = "status.refreshed"
	KeySignedUp         = "status.signed_up"
	KeySignedIn         = "status.signed_in"
)

var catalog = map[string]map[string]string{
	"en": {
		KeyUnauthenticated:  "Authentication required. Please sign in.",
		KeyUnverified:       "Please verify your account before continuing.",
		KeyPermissionDenied: "You do not have permission to perform this action.",
		KeyNotFound:         "The requested resource could not be found.",
		KeyConflict:         "This action conflicts with the current state.",
		KeyTryAgain:         "Unable to complete the request. Please try again.",
		KeySignInAgain:      "Unable to refresh tokens. Please sign in again.",
		KeyInvited:          "Successfully invited user to the organization.",
		KeyInviteSent:       "Successfully sent an invitation to create an account.",
		KeyRemoved:          "Successfully removed user from the organization.",
		KeyDomainCreated:    "Successfully added the domain.",
		KeyRefreshed:        "Tokens refreshed.",
		KeySignedUp:         "Account created successfully.",
		KeySignedIn:         "Signed in successfully.",
	},
	"fr": {
		KeyUnauthenticated:  "Authentification requise. Veuillez vous connecter.",
		KeyUnverified:       "Veuillez vérifier votre compte avant de continuer.",
		KeyPermissionDenied: "Vous n'avez pas la permission d'effectuer cette action.",
		KeyNotFound:         "La ressource demandée est introuvable.",
		KeyConflict:         "Cette action entre en conflit avec l'état actuel.",
		KeyTryAgain:         "Impossible de compléter la demande. Veuillez réessayer.",
		KeySignInAgain:      "Impossible de rafraîchir les jetons. Veuillez vous reconnecter.",
		KeyInvited:          "L'utilisateur a été invité à l'organisation avec succès.",
		KeyInviteSent:       "Une invitation à créer un compte a été envoyée avec succès.",
		KeyRemoved:          "L'utilisateur a été retiré de l'organisation avec succès.",
		KeyDomainCreated:    "Le domaine a été ajouté avec succès.",
		KeyRefreshed:        "Jetons rafraîchis.",
		KeySignedUp:         "Compte créé avec succès.",
		KeySignedIn:         "Connexion réussie.",
	},
}

// Default returns the builtin English/French catalog. Unknown locales fall
// back to English; unknown keys come back verbatim so a missing entry is
// visible instead of silent.
func Default() TranslateFunc {
	return func(key, locale string) string {
		locale = normalizeLocale(locale)
		if msg, ok := catalog[locale][key]; ok {
			return msg
		}
		if msg, ok := catalog["en"][key]; ok {
			return msg
		}
		return key
	}
}

func normalizeLocale(locale string) string {
	locale = strings.TrimSpace(strings.ToLower(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	if _, ok := catalog[locale]; !ok {
		return "en"
	}
	return locale
}
