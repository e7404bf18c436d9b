package main

// General API documentation for swaggo. Regenerate with `swag init -g cmd/assistd/docs.go -o docs`.
//
// @title           assistd API
// @version         1.0
// @description     HTTP API for the therapeutic assistant inference service.
//
// @contact.name   assistd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
