package bq35100

// AddressDefault is the 7-bit I2C address.
const AddressDefault = 0x55

// Standard commands.
const (
	CmdControl             = 0x00
	CmdAccumulatedCapacity = 0x02
	CmdTemperature         = 0x06 // 0.1 K
	CmdVoltage             = 0x08 // mV
	CmdBatteryStatus       = 0x0A
	CmdCurrent             = 0x0C // mA, signed
	CmdScaledR             = 0x16
	CmdMeasuredZ           = 0x22
	CmdInternalTemperature = 0x28 // 0.1 K
	CmdStateOfHealth       = 0x2E // %
	CmdDesignCapacity      = 0x3C
)

// Control() subcommands.
const (
	SubControlStatus = 0x0000
	SubDeviceType    = 0x0001
	SubFWVersion     = 0x0002
	SubGaugeStart    = 0x0011
	SubGaugeStop     = 0x0012
)

// CONTROL_STATUS bits.
const (
	StatusGaugeActive = 1 << 0
	StatusGaugeDone   = 1 << 6
	StatusInitComp    = 1 << 7
)

const DeviceType = 0x0100

const kelvinOffsetDeci = 2732
