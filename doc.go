// Package rentald implements the car-rental participant of a distributed
// reservation system. A coordinator drives bookings through two-phase
// commit over UDP; this server votes on PREPARE by placing a tentative
// hold, journals every state change before acknowledging it, and survives
// crashes by replaying the journal. When the coordinator goes silent after
// a YES vote, the participant resolves the transaction cooperatively by
// asking the other participants for the decision.
package rentald
