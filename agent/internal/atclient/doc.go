// Package atclient drives a Silex BX310x Bluetooth module over its AT command
// interface.
//
// Open configures the serial line (raw, 8N1) and returns it as an
// io.ReadWriteCloser. NewSession starts a reader over any such stream and
// serialises commands on it: Command writes one command line and collects
// the intermediate response lines until a final result code (OK, ERROR,
// +CME ERROR). Echoed command lines are skipped.
//
// Init runs the module bring-up script: clean the interface, verify the ATI
// identity, disable Wi-Fi, enable Bluetooth, disable power save and stop the
// module's own advertising. Scan runs one scan command and returns its
// +SRBLESCAN notification lines.
package atclient
