// Package api provides the KIS Open API REST client.
//
// REST endpoints:
//   - Production: https://openapi.koreainvestment.com:9443
//   - Paper trading: https://openapivts.koreainvestment.com:29443
//
// Every call carries a bearer token obtained from a TokenSource together with
// the application key and secret. Responses are returned as raw JSON; the
// client does not validate or reshape upstream payloads.
package api
