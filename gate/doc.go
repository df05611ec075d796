// Package gate provides a bounded pool of admission permits used to cap
// the number of transfers running at once.
//
// # Usage
//
// Create one [Gate] and share it between every managed file that should
// count against the same limit:
//
//	g, err := gate.New(4)
//	if err != nil {
//		return err
//	}
//
//	p, err := g.Acquire(ctx) // blocks while 4 permits are held
//	if err != nil {
//		return err
//	}
//	defer p.Release()
//
// Waiters are served in the order they arrived, but no fairness between
// transfers is promised beyond that.
package gate
