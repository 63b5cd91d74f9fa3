// Package device defines the capability interface for an FCI-7011 fiber
// coupler production system. The real hardware is reached through an
// implementation of Interface supplied by the transport layer; Simulated is
// a drop-in replacement that models the heater's thermal response, so the
// rest of the application can be developed and tested without access to an
// actual device.
//
// All position values are fractions of the distance between the heater's
// rearmost (0.0) and foremost (1.0) position. Currents are in mA, voltages
// in V, temperatures in °C.
package device
