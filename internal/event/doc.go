// Package event carries measurements and status changes from the OTA and
// temperature sequencers to the reporter.
//
// Producers hold an event.Sink and never block: a full queue drops the
// event and counts the drop. The reporter is the only consumer.
//
//	q := event.NewQueue(32, event.NewMetrics(reg))
//	q.Send(event.Temperature(0, 21.5))
//	ev, ok := q.Receive(ctx)
package event
