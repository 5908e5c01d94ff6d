// Package bridge implements the request/response logic behind the HTTP
// routes: it registers jobs, publishes them to MathCore and blocks pollers
// until an answer arrives or the backend is found down or restarted.
//
// Every blocking call goes through RoundTrip, which subscribes to the
// response subject before publishing the request so a fast reply cannot be
// missed. While waiting it wakes once per poll interval to consult the
// Liveness source; an epoch change means the backend restarted and the
// request is gone.
package bridge
