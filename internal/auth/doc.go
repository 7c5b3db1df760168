// Package auth establishes who is calling the API.
//
// Two modes exist, chosen at startup:
//
//   - Bearer: when auth.jwt_secret is set, every API request must carry an
//     HS256 JWT. Its sub claim is the identity.
//   - Session: otherwise an anonymous id is kept in the chatkit_session_id
//     cookie (HttpOnly, SameSite=Lax, 30 days) and minted on first contact.
//
// Handlers read the result with FromContext. Threads are owned by
// Identity.Subject.
package auth
