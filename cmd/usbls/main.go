/* USB virtualization bridge - host side
 *
 * usbls: enumerates devices through the bridge surface and
 * pretty-prints their descriptors. Reads descriptors straight from
 * ListDevices/GetActiveConfigurationDescriptor rather than issuing
 * raw GET_DESCRIPTOR control transfers itself - the bridge has
 * already parsed them by the time a guest can see them.
 */

package main

import (
	"fmt"
	"os"

	"github.com/usbbridge/hostbridge/internal/bridge"
)

func main() {
	bus := bridge.New(bridge.Options{})

	if err := bus.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "usbls:", err)
		os.Exit(1)
	}
	defer bus.Close()

	devs, err := bus.ListDevices()
	if err != nil {
		fmt.Fprintln(os.Stderr, "usbls:", err)
		os.Exit(1)
	}

	if len(devs) == 0 {
		fmt.Println("No USB devices found.")
		return
	}

	fmt.Printf("Found %d device(s)\n\n", len(devs))

	for idx, dev := range devs {
		fmt.Printf("── Device #%d ──\n", idx)
		fmt.Printf("  Location           bus %d addr %d port %d, %s\n",
			dev.Location.Bus, dev.Location.Address, dev.Location.PortNumber, dev.Location.Speed)

		d := dev.Descriptor
		fmt.Printf("  bcdUSB             %04x\n", d.USBVersionBCD)
		fmt.Printf("  Device Class       %#02x\n", d.DeviceClass)
		fmt.Printf("  Subclass           %#02x\n", d.DeviceSubClass)
		fmt.Printf("  Protocol           %#02x\n", d.DeviceProtocol)
		fmt.Printf("  MaxPacketSize0     %d\n", d.MaxPacketSize0)
		fmt.Printf("  bcdDevice          %04x\n", d.DeviceVersionBCD)
		fmt.Printf("  NumConfigurations  %d\n", d.NumConfigurations)
		fmt.Printf("  VID:PID            %04x:%04x\n", uint16(d.VendorID), uint16(d.ProductID))

		cfg, err := bus.GetActiveConfigurationDescriptor(dev.Handle)
		if err != nil {
			fmt.Printf("  <no active configuration: %s>\n", err)
			fmt.Println()
			continue
		}

		for _, iface := range cfg.Interfaces {
			fmt.Printf("    Interface %d alt %d class %#02x endpoints=%d\n",
				iface.InterfaceNumber, iface.AlternateSetting, iface.InterfaceClass, len(iface.Endpoints))
			for _, ep := range iface.Endpoints {
				fmt.Printf("      Endpoint addr=%#02x attrs=%#02x max_pkt=%d interval=%d\n",
					ep.EndpointAddr, ep.Attributes, ep.MaxPacketSize, ep.Interval)
			}
		}

		fmt.Println()
	}
}
