// Package httputil provides HTTP helpers shared by the gateway and admin servers.
//
// WriteRejection is the single way the gateway answers an unauthorized
// call: a status code, an optional non-sensitive tag header, and no body.
//
//	httputil.WriteRejection(w, http.StatusUnauthorized, "X-Gateway-Error", "unauthorized")
//
// ClientIP and ServiceSegment extract the caller address and the target
// service code the authorization stages evaluate.
package httputil
