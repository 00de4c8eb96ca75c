// Package watchdog tracks how recently a set of external sources were updated and flags each
// watched entry as up to date or stale.
//
// # Contract
//
// A Watchdog holds an ordered list of entries. Each entry references a Source, carries a display
// label, a tolerance and a play-sound flag, and caches the result of the last evaluation.
//
//	OnSourceChanged(sourceID, ts)
//	  - Stamps the matching entry's last update time. Unknown sources are ignored.
//
//	UpdateStatus()
//	  - Reads the clock once and marks every entry up to date when now-lastUpdate <= tolerance.
//	  - Fires the modified signal once if any entry changed status.
//
// Index based accessors return a sentinel value together with ErrIndexOutOfRange when given an
// invalid index. UpToDate reports true in that case so a caller bug never raises a false alarm.
//
// # Concurrency
//
// All methods are safe for concurrent use. Subscribers registered with Subscribe are invoked
// after the internal lock is released and are expected to read the state back (pull model).
package watchdog
