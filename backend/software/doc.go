// Package software provides an in-process readback.Device that simulates
// a GPU command stream on the CPU.
//
// Copies are recorded into batches closed by fences and executed in
// order by a worker goroutine after a configurable latency. In manual
// mode nothing executes until the caller signals a fence, which makes
// every readback state transition reproducible in tests:
//
//	dev := software.New(software.Config{Manual: true})
//	defer dev.Close()
//
//	c := readback.NewCoordinator(dev)
//	req, _ := c.Submit(img, dst)
//	c.Drain()               // fence unsignaled, req stays pending
//	dev.SignalAll()         // the "GPU" finishes
//	c.Drain()               // req completes
//
// Importing the package registers it with the backend registry under
// the name "software".
package software
