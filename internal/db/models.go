package db

import "github.com/shopaway/shopaway/internal/models"

type Order = models.Order
type OrderItem = models.OrderItem
type OrderStatus = models.OrderStatus
type PaymentStatus = models.PaymentStatus
type Product = models.Product
type StockTransaction = models.StockTransaction
type CourierLog = models.CourierLog
type CourierAction = models.CourierAction
