package central

// Assigned numbers for the services and characteristics most devices expose.
var knownServices = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1809": "Health Thermometer",
	"1816": "Cycling Speed and Cadence",
	"181a": "Environmental Sensing",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var knownCharacteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a1c": "Temperature Measurement",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a39": "Heart Rate Control Point",
	"2a6e": "Temperature",
	"2a6f": "Humidity",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
}

// LookupService returns the assigned name of a service UUID, or ""
func LookupService(uuid string) string {
	return knownServices[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the assigned name of a characteristic UUID, or ""
func LookupCharacteristic(uuid string) string {
	return knownCharacteristics[NormalizeUUID(uuid)]
}
