// Package dma manages the scatter/gather descriptor ring that feeds the
// controller's internal DMA engine. The ring has a fixed capacity and is
// refilled lazily as the controller retires descriptors, so a transfer may
// be much larger than the ring itself. The package does not talk to the
// controller; it only keeps the ring consistent and hands out the chain
// head for the hardware layer to consume.
package dma
