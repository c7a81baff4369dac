package model

// MovementCommand asks a cart to perform an operation, optionally reporting
// the obstacle that triggered it.
type MovementCommand struct {
	DeviceID  int64  `json:"id_dispositivo" validate:"gte=0"`
	ClientID  int64  `json:"id_cliente" validate:"gte=0"`
	Operation int64  `json:"id_operacion" validate:"gte=0"`
	Obstacle  *int64 `json:"id_obstaculo,omitempty" validate:"omitnil,gte=0"`
}

// ObstacleCommand reports an obstacle; the cart is recorded as stopped.
type ObstacleCommand struct {
	DeviceID int64  `json:"id_dispositivo" validate:"gte=0"`
	ClientID int64  `json:"id_cliente" validate:"gte=0"`
	Obstacle *int64 `json:"id_obstaculo,omitempty" validate:"omitnil,gte=0"`
}

// SpeedCommand changes the cart's speed level.
type SpeedCommand struct {
	DeviceID int64 `json:"id_dispositivo" validate:"gte=0"`
	ClientID int64 `json:"id_cliente" validate:"gte=0"`
	Speed    int64 `json:"id_velocidad" validate:"gt=0"`
}

// SequenceCommand submits an ordered list of operations for one cart.
type SequenceCommand struct {
	Name     string  `json:"nombre" validate:"max=100"`
	Steps    []int64 `json:"movimientos" validate:"min=1,dive,gte=0"`
	DeviceID int64   `json:"id_dispositivo" validate:"gte=0"`
	ClientID int64   `json:"id_cliente" validate:"gte=0"`
}
