// Package temperature polls one-wire temperature sensors and turns raw
// readings into deduplicated, debounced events.
//
// Init discovers sensors and takes a first reading; Start runs the poll
// loop once the wall clock is synced. Readings pass through a sanity
// filter (range and jump limits), a change threshold and a heartbeat, and
// the surviving values are handed to an event.Sink. Send turns an event
// back into the retained MQTT record for that sensor.
package temperature
