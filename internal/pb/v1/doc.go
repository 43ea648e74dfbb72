// Package v1 holds the runtime.v1.RuntimeService gRPC contract.
//
// Every request and response is a google.protobuf.Struct; the field names of
// each message are declared as constants next to the service description.
package v1
