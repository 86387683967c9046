// Package hostbus is the D-Bus boundary between the input method framework
// and the helper. Framework requests arrive as method calls on Service;
// requests from the keyboard leave as signals emitted by Host and Surface.
package hostbus
