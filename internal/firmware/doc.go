// Package firmware stamps boot-stage payloads with the header the K230
// boot ROM validates before handing off control: magic, payload length,
// security scheme, and an integrity block covering a four-byte version
// stamp plus the payload.
package firmware
