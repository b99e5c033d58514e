// Package app is the composition root of privacyflow. It loads the HCL
// configuration, opens the checkpoint database and the request store, wires
// connectors, the engine and the request service together, and exposes the
// operations the command line runs: single requests, resumption, retention
// sweeps, connection tests and the long-lived serve mode.
package app
