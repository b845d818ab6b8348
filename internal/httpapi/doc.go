// Package httpapi exposes the Engine over JSON/HTTP using echo.
//
// Signed-out routes cover sign-up, sign-in and password reset. Every other
// route runs behind middleware.RequireSession and acts on the signed-in
// user. Engine errors are translated to status codes by their Kind.
package httpapi
