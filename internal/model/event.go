package model

import "time"

// Operation codes with fixed meaning in the command pipeline. The rest of the
// catalogue lives in the operations lookup table.
const (
	OperationForward int64 = 1
	OperationStop    int64 = 3

	// SpeedBaseOperation is the operation recorded alongside a speed change.
	SpeedBaseOperation = OperationForward
)

// Event is a persisted cart event. ID and Timestamp are assigned by the store;
// the *Text fields are filled from the lookup tables on read-back and stay nil
// when the code has no lookup row.
type Event struct {
	ID            int64     `json:"id_evento"`
	DeviceID      int64     `json:"id_dispositivo"`
	ClientID      int64     `json:"id_cliente"`
	Operation     int64     `json:"id_operacion"`
	OperationText *string   `json:"operacion_texto"`
	Obstacle      *int64    `json:"id_obstaculo"`
	ObstacleText  *string   `json:"obstaculo_texto"`
	Speed         *int64    `json:"id_velocidad"`
	SpeedText     *string   `json:"velocidad_texto"`
	Timestamp     time.Time `json:"fecha_hora"`
}

// Sequence is a named, ordered list of operation codes submitted as one unit.
type Sequence struct {
	ID        int64     `json:"id_secuencia"`
	Name      string    `json:"nombre"`
	Steps     []int64   `json:"movimientos"`
	ClientID  int64     `json:"id_cliente"`
	Active    bool      `json:"activa"`
	CreatedAt time.Time `json:"creada"`
}
