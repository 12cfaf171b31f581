// Package resolve implements the address resolution caches: unicast (ARB),
// device (DRB) and multicast (MARB) tables. Every table is keyed by value and
// owns its blocks; callers only hold transient pointers while the link lock
// is held. Timers are tick countdowns driven by the link watchdog.
package resolve
