// Package discovery lets clients find session hosts on the local network
// without prior address knowledge. Hosts broadcast periodic UDP
// announcements; clients collect matching announcements into a session
// directory.
//
// Discovery traffic rides its own UDP port and never carries session
// payload; the session channel is a separate TCP socket.
package discovery
