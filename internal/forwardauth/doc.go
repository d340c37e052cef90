// Package forwardauth implements the HTTP endpoint a reverse proxy calls
// before forwarding a request to an instance's terminal.
//
// # Contract
//
//	GET /healthz  -> 200 "ok", no authentication
//	GET <other>   -> 200 "OK" or 401 "Unauthorized"
//
// For a check, the proxy sends:
//
//	X-Openclaw-Instance-Id: <instance the request is addressed to>
//	X-Forwarded-Uri:        /terminal?token=<hexTimestamp>.<hexSignature>
//
// Every failure (missing headers, unparsable URI, missing token, malformed,
// expired or forged token) produces the same 401 body. The specific reason is
// only logged at debug level and counted by the Observer.
//
// Traefik:
//
//	http:
//	  middlewares:
//	    terminal-auth:
//	      forwardAuth:
//	        address: "http://openclaw-forward-auth:8080/auth"
//
// # Middleware
//
// Wrap installs RequestID, AccessLog and Recover around the handler. The
// access log never includes the forwarded URI since it carries the token.
package forwardauth
