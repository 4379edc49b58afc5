// Package api exposes the reconstruction service over HTTP. It wires upload
// intake, job inspection and cancellation, sparse-model export and artifact
// download, feature-database maintenance, and the project/scan catalog onto a
// chi router, translating internal models into transport-friendly JSON
// payloads and service errors into status codes.
package api
