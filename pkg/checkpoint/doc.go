// Package checkpoint keeps one JSON cursor per subscribed account so that
// scheduled syncs only walk pages newer than the last successful run.
//
// Files are written atomically through a temporary file and rename.
package checkpoint
