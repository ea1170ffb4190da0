// Package server exposes the try-on backend over HTTP.
//
// The router is built with chi. Every request passes through request id,
// real IP, request logging and a JSON recoverer; CORS is applied before any
// route so preflights never hit auth or rate limits. Routes under /api share a
// per-IP rate limit and, when server.api_token is set, bearer authentication
// (the health probe stays open).
//
// Handlers translate between the api DTOs and the tryon service. Errors are
// mapped to status codes through services.HTTPStatus and rendered as the
// `{success:false, error, message?}` envelope; the message detail is only
// exposed when server.environment is "development".
//
// Clients identify themselves with the X-Client-ID header. Requests without
// one fall back to the remote IP, which is what the one-in-flight-job rule is
// keyed on.
package server
