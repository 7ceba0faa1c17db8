// Package process manages the lifecycle of a single supervised child
// process: the proxy or the CoAP server binary (spec §4.7).
//
// Features:
//   - Start/stop subprocess with graceful (SIGTERM then SIGKILL) shutdown
//   - Automatic restart on unexpected exit with exponential backoff
//   - A sentinel exit code that marks a child Terminated rather than
//     restarted (spec §4.7: "exited with the sentinel code 4
//     (registration failure), in which case the supervisor propagates
//     termination")
//   - Health monitoring and status reporting
//   - Log capture from subprocess stdout/stderr
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "coapserver",
//	    Binary:           "/usr/local/bin/homegate-coapserver",
//	    RestartOnFailure: true,
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop()
package process
