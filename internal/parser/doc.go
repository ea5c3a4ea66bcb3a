// Package parser turns raw MQTT payloads into time-series triples.
//
// A Parser is selected per subscription at startup by name through Lookup.
// Every parser validates the whole payload before returning anything, so a
// structural error never yields a partial result.
//
// Registered parsers:
//
//	cdf          {"items":[{"externalId":s,"datapoints":[{"timestamp":i,"value":v}]}]}
//	triples      [[externalId, timestamp, value], ...]
//	cdf-msgpack  the cdf item structure encoded as MessagePack
//
// Numbers decode to float64. Timestamps must be integral milliseconds since
// the Unix epoch. An explicit null timestamp or value is kept as a nil field
// on the Triple; an absent one is a structural error.
package parser
