package bq35100

// I2C 16-bit word operations (Little-endian: LOW then HIGH).

func (d *Device) readWord(reg byte) (uint16, error) {
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0]) | uint16(d.r[1])<<8, nil
}

func (d *Device) readS16(reg byte) (int16, error) {
	u, err := d.readWord(reg)
	return int16(u), err
}

func (d *Device) writeWord(reg byte, val uint16) error {
	d.w[0] = reg
	d.w[1] = byte(val)      // low
	d.w[2] = byte(val >> 8) // high
	return d.i2c.Tx(d.addr, d.w[:3], nil)
}

// control writes a Control() subcommand.
func (d *Device) control(sub uint16) error {
	return d.writeWord(CmdControl, sub)
}

// controlRead writes a subcommand and reads its result word.
func (d *Device) controlRead(sub uint16) (uint16, error) {
	if err := d.control(sub); err != nil {
		return 0, err
	}
	return d.readWord(CmdControl)
}
