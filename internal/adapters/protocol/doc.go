// Package protocol encodes routable messages and command payloads in the
// protobuf wire format. It works directly on the wire with protowire, so no
// generated code is involved.
//
// Routable message fields used here:
//
//	6  to_destination      {1 domain, 2 routing_address}
//	7  from_destination    {1 domain, 2 routing_address}
//	10 protobuf_message_as_bytes
//	12 signedMessageStatus {1 operation_status, 2 signed_message_fault}
//	13 signature_data
//	14 session_info_request {1 public_key}
//	15 session_info
//	50 request_uuid
package protocol
