// Package download manages the destination file of a download: it opens
// the file under an overwrite policy, copies a stream of chunks into it
// while reporting progress, and guarantees the file is closed, and deleted
// if the cleanup policy says so, exactly once when it is released.
//
// # Opening
//
// [Open] creates the [File]. The [OverwritePolicy] decides what happens
// when the path already exists:
//
//	f, err := download.Open(destPath, download.ReplaceIfEmpty,
//		download.WithGate(g),
//		download.WithProgress(progress.NewLogger(logger, 0)),
//	)
//	if err != nil {
//		return err
//	}
//	defer f.Close()
//
// # Copying
//
// [File.Copy] drives a [Source] into the file. If the File was given a
// gate, the copy first waits for a permit and holds it until it returns:
//
//	n, err := f.Copy(ctx, download.FromReader(resp.Body, 0), resp.ContentLength)
//
// A failed copy leaves whatever was written in place. [File.Reset] empties
// the file so the copy can be retried.
//
// # Releasing
//
// [File.Close] applies the [CleanupPolicy]. By default a file that is
// still empty is removed and anything else is kept, so partial downloads
// survive for inspection. Errors while checking or deleting the file are
// reported to the [FinalizeErrorFunc], never returned.
//
// [Using] wraps Open and Close around a function.
package download
