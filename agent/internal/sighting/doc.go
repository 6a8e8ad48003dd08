// Package sighting parses one unsolicited scan notification from the BX310x
// radio into a Sighting.
//
// The notification looks like:
//
//	+SRBLESCAN: "29:db:3c:cd:01:5a",1,-53,"\1E\FF\06\00\01\09\20\02\77"
//	\----------/\------------------/ | \-/ \---------------------------/
//	   prefix         address      kind rssi      advertisement data
//
// Parse never panics and never aborts: every failure is returned as a
// *ParseError whose Kind classifies the problem (NotASighting,
// TruncatedFields, BadAddress, BadAddressKind, BadRSSI, BadPayload). Each kind
// has a matching sentinel error, so callers can branch with errors.Is.
//
// Sighting.Equal is the payload-equality rule used by the station cache:
// address, address kind and payload must match; RSSI is ignored because it
// changes on almost every observation.
package sighting
