// Package central implements the BLE central role: a single radio session that
// discovers peripherals, connects to them and forwards their characteristic data.
//
// The package provides:
//   - The peripheral/service/characteristic data model and connection states
//   - Typed errors for every failure kind an operation can return
//   - The Driver and Link interfaces the platform radio must satisfy
//   - The Adapter, which serializes GATT commands against the radio and turns
//     asynchronous radio callbacks into one ordered Event sequence
package central
