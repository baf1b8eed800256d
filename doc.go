// Package spidap accesses SPI flash through a JTAG probe.
//
// Bridge turns byte-level SPI transactions into JTAG shift sequences for a
// target whose TAP is wired straight to the flash (TDI to MOSI, TDO to MISO,
// TCK to SCK) with TMS framing chip select. Flash implements the flash command
// set on top of any FlashAccess, and Device opens an FTDI MPSSE adapter as the
// JTAG probe.
//
// # References:
//
// FTDI (https://ftdichip.com/document/application-notes/)
//   - [FTDI-AN_108]: Command Processor for MPSSE and MCU Host Bus Emulation Modes (https://ftdichip.com/wp-content/uploads/2020/08/AN_108_Command_Processor_for_MPSSE_and_MCU_Host_Bus_Emulation_Modes.pdf)
//   - [FTDI-AN_129]: Interfacing FTDI USB Hi-Speed Devices to a JTAG TAP (https://ftdichip.com/wp-content/uploads/2020/08/AN_129_FTDI_Hi_Speed_USB_To_JTAG_Example.pdf)
//   - [FTDI-DS_FT2232H]: FT2232H Hi-Speed Dual USB UART/FIFO IC Data Sheet (https://ftdichip.com/wp-content/uploads/2024/09/DS_FT2232H.pdf)
//
// JTAG
//   - [IEEE-1149.1]: Standard Test Access Port and Boundary-Scan Architecture
//
// SPI Flash
//   - [N25Q32]: N25Q032A Micron Serial NOR Flash Memory datasheet (could not find the official public URL)
//   - [W25Q128]: W25Q128JV-DTR Winbond Serial Flash Memory (https://www.winbond.com/resource-files/W25Q128JV_DTR%20RevD%2012232024%20Plus.pdf)
//   - [W25Q80]: W25Q80DV Winbond Serial Flash Memory
package spidap
