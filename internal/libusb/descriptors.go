/* USB virtualization bridge - host side
 *
 * Descriptor decoding: device, configuration, interface and
 * endpoint descriptors, bit-exact with USB 2.0 where applicable.
 * The full interface -> alternate setting -> endpoint tree is
 * decoded into owned Go values; the native descriptor is freed
 * before returning.
 */

package libusb

// #cgo pkg-config: libusb-1.0
// #include <libusb.h>
import "C"

import (
	"unsafe"

	"github.com/google/gousb"
)

// Speed enumerates USB signalling speeds.
type Speed int

// Speed values, ordered from Unknown to SuperPlusX2.
const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedFull
	SpeedHigh
	SpeedSuper
	SpeedSuperPlus
	SpeedSuperPlusX2
)

// String renders the speed the way lsusb-style tools conventionally
// label it.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "low speed"
	case SpeedFull:
		return "full speed"
	case SpeedHigh:
		return "high speed"
	case SpeedSuper:
		return "super speed"
	case SpeedSuperPlus:
		return "super speed+"
	case SpeedSuperPlusX2:
		return "super speed+ x2"
	default:
		return "unknown speed"
	}
}

// DeviceLocation reports where a device sits on the USB topology.
type DeviceLocation struct {
	Bus        uint8
	Address    uint8
	PortNumber uint8
	Speed      Speed
}

// DeviceDescriptor mirrors the USB device descriptor, field for
// field.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBVersionBCD     uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          gousb.ID
	ProductID         gousb.ID
	DeviceVersionBCD  uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// EndpointDescriptor mirrors the USB endpoint descriptor.
type EndpointDescriptor struct {
	Length         uint8
	DescriptorType uint8
	EndpointAddr   uint8
	Attributes     uint8
	MaxPacketSize  uint16
	Interval       uint8
	Refresh        uint8
	SynchAddress   uint8
}

// InterfaceDescriptor mirrors one alternate setting of a USB
// interface, plus its endpoints.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
	Endpoints         []EndpointDescriptor
}

// ConfigurationDescriptor mirrors a USB configuration descriptor,
// plus its full interface/alt-setting/endpoint tree.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8
	Interfaces         []InterfaceDescriptor
}

// GetDeviceDescriptor fetches and decodes the 18-byte device
// descriptor.
func (d *Device) GetDeviceDescriptor() (DeviceDescriptor, error) {
	var c C.struct_libusb_device_descriptor
	rc := C.libusb_get_device_descriptor(d.ptr, &c)
	if rc != 0 {
		return DeviceDescriptor{}, newErr("libusb_get_device_descriptor", rc)
	}

	return DeviceDescriptor{
		Length:            uint8(c.bLength),
		DescriptorType:    uint8(c.bDescriptorType),
		USBVersionBCD:     uint16(c.bcdUSB),
		DeviceClass:       uint8(c.bDeviceClass),
		DeviceSubClass:    uint8(c.bDeviceSubClass),
		DeviceProtocol:    uint8(c.bDeviceProtocol),
		MaxPacketSize0:    uint8(c.bMaxPacketSize0),
		VendorID:          gousb.ID(c.idVendor),
		ProductID:         gousb.ID(c.idProduct),
		DeviceVersionBCD:  uint16(c.bcdDevice),
		ManufacturerIndex: uint8(c.iManufacturer),
		ProductIndex:      uint8(c.iProduct),
		SerialNumberIndex: uint8(c.iSerialNumber),
		NumConfigurations: uint8(c.bNumConfigurations),
	}, nil
}

// GetActiveConfigDescriptor fetches the descriptor for the device's
// currently active configuration.
func (d *Device) GetActiveConfigDescriptor() (ConfigurationDescriptor, error) {
	var c *C.struct_libusb_config_descriptor
	rc := C.libusb_get_active_config_descriptor(d.ptr, &c)
	if rc != 0 {
		return ConfigurationDescriptor{}, newErr("libusb_get_active_config_descriptor", rc)
	}
	defer C.libusb_free_config_descriptor(c)
	return decodeConfigDescriptor(c), nil
}

// GetConfigDescriptorByIndex fetches the descriptor for the
// configuration at the given index (0-based, not the configuration
// value).
func (d *Device) GetConfigDescriptorByIndex(index uint8) (ConfigurationDescriptor, error) {
	var c *C.struct_libusb_config_descriptor
	rc := C.libusb_get_config_descriptor(d.ptr, C.uint8_t(index), &c)
	if rc != 0 {
		return ConfigurationDescriptor{}, newErr("libusb_get_config_descriptor", rc)
	}
	defer C.libusb_free_config_descriptor(c)
	return decodeConfigDescriptor(c), nil
}

// GetConfigDescriptorByValue fetches the descriptor for the
// configuration with the given bConfigurationValue.
func (d *Device) GetConfigDescriptorByValue(value uint8) (ConfigurationDescriptor, error) {
	var c *C.struct_libusb_config_descriptor
	rc := C.libusb_get_config_descriptor_by_value(d.ptr, C.uint8_t(value), &c)
	if rc != 0 {
		return ConfigurationDescriptor{}, newErr("libusb_get_config_descriptor_by_value", rc)
	}
	defer C.libusb_free_config_descriptor(c)
	return decodeConfigDescriptor(c), nil
}

func decodeConfigDescriptor(c *C.struct_libusb_config_descriptor) ConfigurationDescriptor {
	cfg := ConfigurationDescriptor{
		Length:             uint8(c.bLength),
		DescriptorType:     uint8(c.bDescriptorType),
		TotalLength:        uint16(c.wTotalLength),
		ConfigurationValue: uint8(c.bConfigurationValue),
		ConfigurationIndex: uint8(c.iConfiguration),
		Attributes:         uint8(c.bmAttributes),
		MaxPower:           uint8(c.MaxPower),
	}

	ifCount := int(c.bNumInterfaces)
	ifaces := unsafe.Slice(c._interface, ifCount)

	for _, iface := range ifaces {
		altCount := int(iface.num_altsetting)
		alts := unsafe.Slice(iface.altsetting, altCount)

		for _, alt := range alts {
			ifd := InterfaceDescriptor{
				Length:            uint8(alt.bLength),
				DescriptorType:    uint8(alt.bDescriptorType),
				InterfaceNumber:   uint8(alt.bInterfaceNumber),
				AlternateSetting:  uint8(alt.bAlternateSetting),
				InterfaceClass:    uint8(alt.bInterfaceClass),
				InterfaceSubClass: uint8(alt.bInterfaceSubClass),
				InterfaceProtocol: uint8(alt.bInterfaceProtocol),
				InterfaceIndex:    uint8(alt.iInterface),
			}

			epCount := int(alt.bNumEndpoints)
			endpoints := unsafe.Slice(alt.endpoint, epCount)
			for _, ep := range endpoints {
				ifd.Endpoints = append(ifd.Endpoints, EndpointDescriptor{
					Length:         uint8(ep.bLength),
					DescriptorType: uint8(ep.bDescriptorType),
					EndpointAddr:   uint8(ep.bEndpointAddress),
					Attributes:     uint8(ep.bmAttributes),
					MaxPacketSize:  uint16(ep.wMaxPacketSize),
					Interval:       uint8(ep.bInterval),
					Refresh:        uint8(ep.bRefresh),
					SynchAddress:   uint8(ep.bSynchAddress),
				})
			}

			cfg.Interfaces = append(cfg.Interfaces, ifd)
		}
	}

	return cfg
}
