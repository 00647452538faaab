// Package supervisor runs one interactive interpreter child and streams its
// output.
//
// The child is started as
//
//	<executable> -u <script>
//
// in the script's directory. The -u flag keeps the interpreter from buffering
// its output, which would otherwise stall interactive scripts. stdout and
// stderr share a single pipe and stdin is a separate pipe.
//
// # Lifecycle
//
//	Idle ──Start──▶ Running ──exit/Stop──▶ Terminated ──Start──▶ Running
//
// A failed spawn leaves the supervisor Idle. Starting while Running kills the
// previous child and waits for it before spawning the next one, so there is
// never more than one child attached to the pipes.
//
// # Events
//
// A reader goroutine pushes normalized output chunks and a waiter goroutine
// pushes the closing "[Process Finished]" chunk followed by a Finished event.
// Both go through an unbounded queue drained by Events(), so delivery order
// matches emission order and producers never block on a slow consumer.
//
//	sup := supervisor.New()
//	defer sup.Close()
//
//	if err := sup.Start(ctx, "/usr/bin/python3", "/home/me/tool.py"); err != nil {
//	    return err
//	}
//	for ev := range sup.Events() {
//	    if ev.Kind == supervisor.EventFinished {
//	        break
//	    }
//	    fmt.Print(ev.Text)
//	}
//
// # Teardown
//
// There is no execution timeout. Whatever owns a Supervisor must call Close
// (or Stop) when it is done with it, otherwise the child keeps running.
package supervisor
