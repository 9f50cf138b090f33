// Package authcore implements credential onboarding, password and
// federated login, access/refresh token issuance, refresh-token rotation
// with theft detection, OTP-based email verification and password reset,
// and session enumeration and revocation.
//
// Persistence, mail delivery, and identity-token verification are
// collaborators injected through Deps; the store, mail, and googleid
// packages ship ready-made adapters for them.
package authcore
