package main

import (
	"io"
	"time"

	"github.com/dreadl0ck/gopacket"
	"github.com/dreadl0ck/gopacket/pcap"
)

// packetSource abstracts the capture backend so the decode loop doesn't
// care whether packets come from a live interface or a recorded
// capture file, grounded on the pcap.Handle ReadPacketData idiom common
// across the gopacket ecosystem.
type packetSource interface {
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
	Close()
}

const defaultSnapLen = 65536

// openLiveCapture opens iface for live packet capture in promiscuous
// mode, grounded on pcap.OpenLive's standard three-argument-plus-timeout
// signature used throughout the gopacket ecosystem.
func openLiveCapture(iface string) (packetSource, error) {
	return pcap.OpenLive(iface, defaultSnapLen, true, pcap.BlockForever)
}

// openOfflineCapture replays a previously recorded capture file, used
// for local testing and reprocessing without a live interface.
func openOfflineCapture(file string) (packetSource, error) {
	return pcap.OpenOffline(file)
}

// readLoop pulls packets from src until it is exhausted or returns an
// error other than a read timeout, invoking handle for each one.
func readLoop(src packetSource, handle func(data []byte, ts time.Time)) error {
	for {
		data, ci, err := src.ReadPacketData()
		if err == pcap.NextErrorTimeoutExpired {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		handle(data, ci.Timestamp)
	}
}
