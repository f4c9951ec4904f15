package command

// FirmwareVersion answers FW_VERSION with
// [FW_VERSION, major, minor, name..., 0].
type FirmwareVersion struct {
	Major uint8
	Minor uint8
	Name  string
}

// HandleCommand implements Handler.
func (v *FirmwareVersion) HandleCommand(payload []byte, reply ReplyFunc) {
	if reply == nil {
		return
	}
	resp := make([]byte, 0, 4+len(v.Name))
	resp = append(resp, byte(FWVersion), v.Major, v.Minor)
	resp = append(resp, v.Name...)
	resp = append(resp, 0)
	reply(resp)
}
