// Package watchdog decides whether the MathCore backend is alive.
//
// The backend publishes heartbeats on IsMathAlive.<instance>. Any heartbeat
// refreshes liveness; one carrying {"event":"startup"} also advances the
// startup epoch, which lets in-flight requests notice that the backend lost
// their state. Liveness is computed on demand: IsAlive flips to false once
// no heartbeat has arrived within the timeout.
package watchdog
