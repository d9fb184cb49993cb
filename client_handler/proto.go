package client_handler

import (
	"net"

	"github.com/hybrasyl/server-sub005/misc/packet"
)

// This file defines the handshake messages exchanged before a session
// reaches the simulation layer. Each message has a Pack method for the
// sending side and a PKT_ parser for the receiving side.

// Client version announcement
type S_version_info struct {
	F_version uint16
}

func (p S_version_info) Pack(w *packet.Writer) {
	w.WriteU16(p.F_version)
}

func PKT_version_info(reader *packet.Reader) (tbl S_version_info, err error) {
	tbl.F_version, err = reader.ReadU16()
	return
}

// Key material handed out by the lobby, status 0 means accepted
type S_encryption_info struct {
	F_status byte
	F_crc    uint32
	F_seed   byte
	F_key    []byte
}

func (p S_encryption_info) Pack(w *packet.Writer) {
	w.WriteU8(p.F_status)
	w.WriteU32(p.F_crc)
	w.WriteU8(p.F_seed)
	w.WriteU8(byte(len(p.F_key)))
	w.WriteBytes(p.F_key)
}

func PKT_encryption_info(reader *packet.Reader) (tbl S_encryption_info, err error) {
	if tbl.F_status, err = reader.ReadU8(); err != nil {
		return
	}
	if tbl.F_crc, err = reader.ReadU32(); err != nil {
		return
	}
	if tbl.F_seed, err = reader.ReadU8(); err != nil {
		return
	}
	var n byte
	if n, err = reader.ReadU8(); err != nil {
		return
	}
	tbl.F_key, err = reader.ReadBytes(int(n))
	return
}

// Server table request, mismatch 1 asks for the table itself
type S_server_table_req struct {
	F_mismatch byte
}

func (p S_server_table_req) Pack(w *packet.Writer) {
	w.WriteU8(p.F_mismatch)
}

func PKT_server_table_req(reader *packet.Reader) (tbl S_server_table_req, err error) {
	tbl.F_mismatch, err = reader.ReadU8()
	return
}

// One server table entry
type S_server_entry struct {
	F_id   byte
	F_ip   net.IP
	F_port uint16
	F_name string
}

type S_server_table struct {
	F_entries []S_server_entry
}

func (p S_server_table) Pack(w *packet.Writer) {
	w.WriteU8(byte(len(p.F_entries)))
	for _, e := range p.F_entries {
		w.WriteU8(e.F_id)
		w.WriteBytes(e.F_ip.To4())
		w.WriteU16(e.F_port)
		w.WriteString8(e.F_name)
	}
}

// Redirect to another server. The address is sent in reverse byte order
// and the key material is prefixed by its total length.
type S_redirect_info struct {
	F_ip   net.IP
	F_port uint16
	F_seed byte
	F_key  []byte
	F_name string
	F_id   uint32
}

func (p S_redirect_info) Pack(w *packet.Writer) {
	ip := p.F_ip.To4()
	if ip == nil {
		ip = net.IPv4zero.To4()
	}
	w.WriteBytes([]byte{ip[3], ip[2], ip[1], ip[0]})
	w.WriteU16(p.F_port)
	w.WriteU8(byte(1 + 1 + len(p.F_key) + 1 + len(p.F_name) + 4))
	w.WriteU8(p.F_seed)
	w.WriteU8(byte(len(p.F_key)))
	w.WriteBytes(p.F_key)
	w.WriteString8(p.F_name)
	w.WriteU32(p.F_id)
}

func PKT_redirect_info(reader *packet.Reader) (tbl S_redirect_info, err error) {
	var raw []byte
	if raw, err = reader.ReadBytes(4); err != nil {
		return
	}
	tbl.F_ip = net.IPv4(raw[3], raw[2], raw[1], raw[0])
	if tbl.F_port, err = reader.ReadU16(); err != nil {
		return
	}
	if _, err = reader.ReadU8(); err != nil {
		return
	}
	if tbl.F_seed, err = reader.ReadU8(); err != nil {
		return
	}
	var n byte
	if n, err = reader.ReadU8(); err != nil {
		return
	}
	if tbl.F_key, err = reader.ReadBytes(int(n)); err != nil {
		return
	}
	if tbl.F_name, err = reader.ReadString8(); err != nil {
		return
	}
	tbl.F_id, err = reader.ReadU32()
	return
}

// Redirect parameters presented on a new transport
type S_join_info struct {
	F_seed byte
	F_key  []byte
	F_name string
	F_id   uint32
}

func (p S_join_info) Pack(w *packet.Writer) {
	w.WriteU8(p.F_seed)
	w.WriteU8(byte(len(p.F_key)))
	w.WriteBytes(p.F_key)
	w.WriteString8(p.F_name)
	w.WriteU32(p.F_id)
}

func PKT_join_info(reader *packet.Reader) (tbl S_join_info, err error) {
	if tbl.F_seed, err = reader.ReadU8(); err != nil {
		return
	}
	var n byte
	if n, err = reader.ReadU8(); err != nil {
		return
	}
	if tbl.F_key, err = reader.ReadBytes(int(n)); err != nil {
		return
	}
	if tbl.F_name, err = reader.ReadString8(); err != nil {
		return
	}
	tbl.F_id, err = reader.ReadU32()
	return
}

// Player credentials
type S_login_info struct {
	F_name     string
	F_password string
}

func (p S_login_info) Pack(w *packet.Writer) {
	w.WriteString8(p.F_name)
	w.WriteString8(p.F_password)
}

func PKT_login_info(reader *packet.Reader) (tbl S_login_info, err error) {
	if tbl.F_name, err = reader.ReadString8(); err != nil {
		return
	}
	tbl.F_password, err = reader.ReadString8()
	return
}

// Login outcome, code 0 means success
type S_login_result struct {
	F_code byte
	F_msg  string
}

func (p S_login_result) Pack(w *packet.Writer) {
	w.WriteU8(p.F_code)
	w.WriteString8(p.F_msg)
}

func PKT_login_result(reader *packet.Reader) (tbl S_login_result, err error) {
	if tbl.F_code, err = reader.ReadU8(); err != nil {
		return
	}
	tbl.F_msg, err = reader.ReadString8()
	return
}

// System message shown to the player
type S_system_message struct {
	F_type byte
	F_msg  string
}

func (p S_system_message) Pack(w *packet.Writer) {
	w.WriteU8(p.F_type)
	w.WriteString16(p.F_msg)
}

func PKT_system_message(reader *packet.Reader) (tbl S_system_message, err error) {
	if tbl.F_type, err = reader.ReadU8(); err != nil {
		return
	}
	tbl.F_msg, err = reader.ReadString16()
	return
}

// Byte heartbeat, echoed back unchanged
type S_byte_heartbeat struct {
	F_a byte
	F_b byte
}

func (p S_byte_heartbeat) Pack(w *packet.Writer) {
	w.WriteU8(p.F_a)
	w.WriteU8(p.F_b)
}

func PKT_byte_heartbeat(reader *packet.Reader) (tbl S_byte_heartbeat, err error) {
	if tbl.F_a, err = reader.ReadU8(); err != nil {
		return
	}
	tbl.F_b, err = reader.ReadU8()
	return
}

// Tick heartbeat sent by the server
type S_tick_heartbeat struct {
	F_tick uint32
}

func (p S_tick_heartbeat) Pack(w *packet.Writer) {
	w.WriteU32(p.F_tick)
}

// Tick heartbeat reply: the server tick followed by the client's own
type S_tick_heartbeat_ack struct {
	F_server_tick uint32
	F_client_tick uint32
}

func (p S_tick_heartbeat_ack) Pack(w *packet.Writer) {
	w.WriteU32(p.F_server_tick)
	w.WriteU32(p.F_client_tick)
}

func PKT_tick_heartbeat_ack(reader *packet.Reader) (tbl S_tick_heartbeat_ack, err error) {
	if tbl.F_server_tick, err = reader.ReadU32(); err != nil {
		return
	}
	tbl.F_client_tick, err = reader.ReadU32()
	return
}
