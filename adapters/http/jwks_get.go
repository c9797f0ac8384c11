// Package authhttp exposes framework-free net/http handlers.
package authhttp

import (
	"net/http"

	jwtkit "github.com/PaulFidika/subledger/jwt"
)

// JWKSHandler serves the public JWKS document for ks. Keys are read on every request so
// rotations show up without a restart.
func JWKSHandler(ks jwtkit.KeySource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwtkit.ServeJWKS(w, r, jwtkit.JWKSFromKeySource(ks))
	})
}
