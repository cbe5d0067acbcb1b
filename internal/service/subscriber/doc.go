// Package subscriber maintains the persistent telemetry streams from camera
// devices.
//
// One Subscriber owns one HTTP streaming GET per device per signal type and
// runs a reconnect state machine: connect with digest auth, read with a
// short watchdog timeout, decode frames into telemetry readings, and back
// off exponentially after failures. Two protocol strategies exist: the count
// feed (videoStatServer.cgi key=value lines) and the alarm feed
// (eventManager.cgi multipart chunks). The reconnect logic is written once;
// the strategies only build URLs and decode frames.
package subscriber
