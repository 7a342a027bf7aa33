package catalog

import (
	"sort"

	"github.com/fisaks/uhn-gripper/internal/gripper"
	"github.com/fisaks/uhn-gripper/internal/messaging"
)

type GripperCatalogMessage struct {
	DeviceID         int               `json:"deviceId"`
	Registers        []RegisterSummary `json:"registers"`
	BaudRates        map[uint16]int    `json:"baudRates"`
	ClampStatus      map[uint16]string `json:"clampStatus"`
	RotationStatus   map[uint16]string `json:"rotationStatus"`
	SignalChannels   [2]int            `json:"signalChannels"`
	IndicatorChannel int               `json:"indicatorChannel"`
}

type RegisterSummary struct {
	Name    string `json:"name"`
	Address uint16 `json:"address"`
	Words   uint16 `json:"words"`
	Type    string `json:"type"` // "float32" | "uint16"
}

// Catalog describes the gripper register map to subscribers.
type Catalog struct {
	deviceID  int
	indicator func() int
}

func NewGripperCatalog(deviceID int, indicator func() int) *Catalog {
	return &Catalog{deviceID: deviceID, indicator: indicator}
}

func (c *Catalog) Build() *GripperCatalogMessage {
	regs := gripper.AllRegisters()
	sort.Slice(regs, func(i, j int) bool { return regs[i].Addr < regs[j].Addr })

	msg := &GripperCatalogMessage{
		DeviceID:       c.deviceID,
		BaudRates:      map[uint16]int{},
		ClampStatus:    map[uint16]string{},
		RotationStatus: map[uint16]string{},
		SignalChannels: [2]int{gripper.MinSignalChannel, gripper.MaxSignalChannel},
	}
	for _, r := range regs {
		typ := "uint16"
		if r.Float {
			typ = "float32"
		}
		msg.Registers = append(msg.Registers, RegisterSummary{Name: r.Name, Address: r.Addr, Words: r.Count(), Type: typ})
	}
	for code := uint16(0); ; code++ {
		rate, ok := gripper.BaudRateForCode(code)
		if !ok {
			break
		}
		msg.BaudRates[code] = rate
	}
	for v := uint16(gripper.ClampSeated); v <= gripper.ClampDropped; v++ {
		msg.ClampStatus[v] = gripper.ClampStatusText(v)
	}
	for v := uint16(gripper.RotationSeated); v <= gripper.RotationStalled; v++ {
		msg.RotationStatus[v] = gripper.RotationStatusText(v)
	}
	if c.indicator != nil {
		msg.IndicatorChannel = c.indicator()
	}
	return msg
}

// OnConnectPublisher republishes the catalog, retained, on every broker connect.
func (c *Catalog) OnConnectPublisher(topic string) messaging.OnConnectPublisher {
	return func() (messaging.PublishRequest, error) {
		return messaging.PublishRequest{
			Topic:   topic,
			Qos:     messaging.AtLeastOnce,
			Retain:  true,
			Payload: c.Build(),
		}, nil
	}
}
