// Package api exposes the authentication service over HTTP.
//
// All routes live under /api/v1/auth and speak JSON. Register, login and
// refresh are public and rate limited per client address. Every other route
// passes through the authentication gateway, which accepts either a bearer
// access token or an API key. Role management requires roles:admin and user
// administration requires users:admin; superusers hold both.
//
//	srv := api.NewServer(api.Options{
//		Service:      svc,
//		Gateway:      middleware.NewGateway(svc, "X-API-Key", logger),
//		LoginLimiter: middleware.NewRateLimiter(nil),
//		Logger:       logger,
//		Metrics:      metrics,
//	})
//	http.ListenAndServe(":8080", srv)
//
// Errors are written by httputil.WriteError with the body
// {"error": kind, "message": text}.
package api
