// Package varsync exposes a variable provider over HTTP: the snapshot
// endpoint remote providers poll, plus the CRUD sync surface consumed by
// external tooling.
//
// # Endpoints
//
//	GET    /v1/variables/        full configuration snapshot
//	GET    /v1/variables/{name}  one variable's configuration
//	POST   /v1/variables/        create a variable (409 when the name is taken)
//	PUT    /v1/variables/{name}  replace a variable (404 when absent)
//	DELETE /v1/variables/{name}  delete a variable (404 when absent)
//	POST   /v1/variables/batch   apply a batch of changes (null value deletes)
//
// All payloads are the JSON shapes of the variable package's configuration
// types. Requests carry an X-Request-ID correlation header (generated when
// the client sends none) and, when a token is configured, must authenticate
// with "Authorization: bearer <token>".
//
// # Usage
//
//	provider, _ := variable.NewLocalProvider(cfg)
//	srv := &http.Server{
//	    Addr:    ":8080",
//	    Handler: varsync.Router(provider, varsync.WithToken(token)),
//	}
//
// Any variable.Provider works as the backend, so the same surface can front
// an in-memory store, a file, or the shared Redis store.
package varsync
