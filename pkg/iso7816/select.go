package iso7816

// SELECT (INS 'A4') targets used on a passport. Both forms ask for no
// response data (P2 = '0C'), so the chip answers with a bare status word.
const (
	SelectByFileID   byte = 0x00
	SelectEFUnderDF  byte = 0x02
	SelectByDFName   byte = 0x04
	SelectNoResponse byte = 0x0C
)

// SelectEF selects an elementary file of the current application by FID.
func SelectEF(cla Class, fid uint16) *CommandAPDU {
	return newSelect(cla, SelectEFUnderDF, []byte{byte(fid >> 8), byte(fid)})
}

// SelectApplication selects an application by AID.
func SelectApplication(cla Class, aid []byte) *CommandAPDU {
	return newSelect(cla, SelectByDFName, aid)
}

func newSelect(cla Class, p1 byte, data []byte) *CommandAPDU {
	ins, _ := NewInstruction(INS_SELECT)
	return NewCommandAPDU(cla, ins, p1, SelectNoResponse, data, 0)
}
