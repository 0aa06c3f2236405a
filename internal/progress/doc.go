// Package progress records the pipeline's stage markers. A Logger stamps each
// message with the run ID and the clock's time and hands it, synchronously and
// in order, to every configured sink. The first sink error aborts the call.
package progress
